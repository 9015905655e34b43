package console

const msgWelcome = `Экзаменационная сессия.

Перед началом нужно разрешить захват экрана. Без разрешения попытка не начнется.`

const msgCapturePrompt = `Разрешить захват экрана на время экзамена? (да/нет): `

const msgHelp = `Команды:

help              - эта справка
show              - показать текущий вопрос
goto N            - перейти к вопросу N
answer ОТВЕТ      - ответить на текущий вопрос
clear             - удалить ответ на текущий вопрос
submit            - отправить секцию досрочно
retry             - повторить заблокированный шаг
exit              - прервать экзамен

Форматы ответа:
  выбор одного      - answer B
  выбор нескольких  - answer A C
  верно/неверно     - answer да
  текст             - answer любой текст
  код               - answer go fmt.Println(1)\nreturn`

const msgPermissionDenied = `Захват экрана не разрешен, экзамен не может начаться.

retry  - запросить разрешение еще раз
cancel - отказаться от попытки`

const msgSectionStarted = `Секция %d из %d: %s. Вопросов: %d, время: %s.`

const msgSectionExpired = `Время секции %d истекло, ответы отправлены автоматически.`

const msgSectionSubmitting = `Отправляем ответы секции %d...`

const msgSectionSubmitted = `Секция %d принята.`

const msgBlocked = `Не удалось связаться с сервером: %v
Ответы сохранены. Введите retry, чтобы повторить.`

const msgFinalizing = `Все секции отправлены, ждем оценку...`

const msgGraded = `Экзамен оценен: %s из %s баллов (%s%%).`

const msgReportSaved = `Отчет сохранен в %s.`

const msgAbandoned = `Экзамен прерван.`

const msgClosed = `Сессия завершена. Спасибо!`

const msgAnswerAcceptance = `Ответ сохранен.`

const msgAnswerCleared = `Ответ удален.`

const msgTimeLeft = `Осталось %s`

const msgUnknownCommand = `Неизвестная команда, введите help.`

const msgNoQuestion = `Сейчас нет активного вопроса.`

const msgError = `Ошибка: %v`
